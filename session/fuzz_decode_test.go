package session

import "testing"

// FuzzSessionDecode exercises the binary decoder with arbitrary inputs.
// Goal: no panics; valid decodes must re-encode.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(&Session{
		IdentityID: "identity-1",
		Username:   "bob",
		Via:        ViaTOTP,
		CreatedAt:  1700000000,
		ExpiresAt:  1700003600,
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		sess, err := Decode(data)
		if err != nil {
			return
		}
		if _, err := Encode(sess); err != nil {
			t.Fatalf("decoded session failed to encode: %v", err)
		}
	})
}
