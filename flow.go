package authlab

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FlowState tags the position of a Flow.
type FlowState uint8

const (
	// StateLogin is initial: only SubmitCredentials is accepted.
	StateLogin FlowState = iota
	// StateTwoFactor holds a pre-auth token: only SubmitCode is accepted.
	StateTwoFactor
	// StateAuthenticated holds a session token.
	StateAuthenticated
	// StateEnrolling holds a session token and a pending secret awaiting activation.
	StateEnrolling
)

func (s FlowState) String() string {
	switch s {
	case StateLogin:
		return "LOGIN"
	case StateTwoFactor:
		return "TWO_FACTOR"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateEnrolling:
		return "ENROLLING"
	default:
		return "UNKNOWN"
	}
}

// Backend is what a Flow drives. *Engine implements it in-process;
// httpapi.Client implements it over HTTP.
type Backend interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	VerifySecondFactor(ctx context.Context, preAuthToken, code string) (*LoginResult, error)
	SetupTOTP(ctx context.Context, sessionToken string) (*TOTPSetup, error)
	ActivateTOTP(ctx context.Context, sessionToken, secret, code string) error
	Logout(ctx context.Context, sessionToken string) error
}

var _ Backend = (*Engine)(nil)

// flowState is a closed sum: each variant carries only the fields valid in
// its state, so a Flow never holds a pre-auth and a session token together.
type flowState interface {
	tag() FlowState
}

type loginState struct{}

type twoFactorState struct {
	preAuthToken string
	expiresAt    time.Time
}

type authenticatedState struct {
	sessionToken string
	expiresAt    time.Time
}

type enrollingState struct {
	authenticatedState
	setup TOTPSetup
}

func (loginState) tag() FlowState         { return StateLogin }
func (twoFactorState) tag() FlowState     { return StateTwoFactor }
func (authenticatedState) tag() FlowState { return StateAuthenticated }
func (enrollingState) tag() FlowState     { return StateEnrolling }

// Flow is the client-side state machine for one login attempt and the
// session that follows. One Flow belongs to one client; methods are
// serialized internally.
type Flow struct {
	mu      sync.Mutex
	backend Backend
	state   flowState
}

// NewFlow returns a Flow in StateLogin.
func NewFlow(backend Backend) *Flow {
	return &Flow{backend: backend, state: loginState{}}
}

// State returns the current state tag.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.tag()
}

// SessionToken returns the session token in StateAuthenticated and
// StateEnrolling.
func (f *Flow) SessionToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch st := f.state.(type) {
	case authenticatedState:
		return st.sessionToken, true
	case enrollingState:
		return st.sessionToken, true
	default:
		return "", false
	}
}

// PendingEnrollment returns the secret and URI being enrolled.
func (f *Flow) PendingEnrollment() (TOTPSetup, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.state.(enrollingState); ok {
		return st.setup, true
	}
	return TOTPSetup{}, false
}

// SubmitCredentials runs step one. Failure keeps the Flow in StateLogin.
func (f *Flow) SubmitCredentials(ctx context.Context, username, password string) (FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.state.(loginState); !ok {
		return f.state.tag(), ErrInvalidState
	}

	res, err := f.backend.Login(ctx, username, password)
	if err != nil {
		return f.state.tag(), err
	}
	switch {
	case res.RequiresTwoFactor && res.PreAuthToken != "":
		f.state = twoFactorState{preAuthToken: res.PreAuthToken, expiresAt: res.ExpiresAt}
	case !res.RequiresTwoFactor && res.AccessToken != "":
		f.state = authenticatedState{sessionToken: res.AccessToken, expiresAt: res.ExpiresAt}
	default:
		return f.state.tag(), ErrTokenInvalid
	}
	return f.state.tag(), nil
}

// SubmitCode runs step two with the held pre-auth token. A wrong or
// replayed code keeps the Flow in StateTwoFactor for retry; a token that
// can no longer succeed returns it to StateLogin.
func (f *Flow) SubmitCode(ctx context.Context, code string) (FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.state.(twoFactorState)
	if !ok {
		return f.state.tag(), ErrInvalidState
	}

	res, err := f.backend.VerifySecondFactor(ctx, st.preAuthToken, code)
	if err != nil {
		if restartsFlow(err) {
			f.state = loginState{}
		}
		return f.state.tag(), err
	}
	if res.AccessToken == "" {
		return f.state.tag(), ErrTokenInvalid
	}
	f.state = authenticatedState{sessionToken: res.AccessToken, expiresAt: res.ExpiresAt}
	return f.state.tag(), nil
}

// RequestEnrollment asks for a new pending secret. Calling it again while
// enrolling replaces the pending secret.
func (f *Flow) RequestEnrollment(ctx context.Context) (*TOTPSetup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var auth authenticatedState
	switch st := f.state.(type) {
	case authenticatedState:
		auth = st
	case enrollingState:
		auth = st.authenticatedState
	default:
		return nil, ErrInvalidState
	}

	setup, err := f.backend.SetupTOTP(ctx, auth.sessionToken)
	if err != nil {
		if sessionLost(err) {
			f.state = loginState{}
		}
		return nil, err
	}
	f.state = enrollingState{authenticatedState: auth, setup: *setup}
	out := *setup
	return &out, nil
}

// ActivateEnrollment confirms the pending secret with a current code and
// returns to StateAuthenticated. Failure leaves the Flow enrolling.
func (f *Flow) ActivateEnrollment(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.state.(enrollingState)
	if !ok {
		return ErrInvalidState
	}

	if err := f.backend.ActivateTOTP(ctx, st.sessionToken, st.setup.Secret, code); err != nil {
		if sessionLost(err) {
			f.state = loginState{}
		}
		return err
	}
	f.state = st.authenticatedState
	return nil
}

// CancelEnrollment abandons the pending secret locally.
func (f *Flow) CancelEnrollment() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.state.(enrollingState)
	if !ok {
		return ErrInvalidState
	}
	f.state = st.authenticatedState
	return nil
}

// Logout discards all token state and returns to StateLogin. A held session
// is revoked on the backend first; the local state is discarded even when
// that call fails.
func (f *Flow) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var token string
	switch st := f.state.(type) {
	case loginState:
		return ErrInvalidState
	case authenticatedState:
		token = st.sessionToken
	case enrollingState:
		token = st.sessionToken
	}
	f.state = loginState{}

	if token == "" {
		return nil
	}
	err := f.backend.Logout(ctx, token)
	if sessionLost(err) {
		return nil
	}
	return err
}

func restartsFlow(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyUsed) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenWrongPurpose) ||
		errors.Is(err, ErrTooManyAttempts)
}

func sessionLost(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenWrongPurpose)
}
