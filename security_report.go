package authlab

import "time"

// SecurityReport summarizes the effective protections of a built Engine.
// It contains no key material.
type SecurityReport struct {
	SigningAlgorithm    string
	PreAuthTTL          time.Duration
	PreAuthMaxAttempts  int
	SessionTTL          time.Duration
	TOTP                TOTPReport
	Argon2              PasswordConfigReport
	RateLimitingActive  bool
	IPThrottleActive    bool
	SignupThrottle      bool
	EnrollmentAttempts  int
	RevokeOtherSessions bool
	AuditEnabled        bool
	LintWarnings        []string
}

type TOTPReport struct {
	Algorithm string
	Digits    int
	Period    int
	Skew      int
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	return SecurityReport{
		SigningAlgorithm:   cfg.JWT.SigningMethod,
		PreAuthTTL:         cfg.PreAuth.TTL,
		PreAuthMaxAttempts: cfg.PreAuth.MaxAttempts,
		SessionTTL:         cfg.Session.TTL,
		TOTP: TOTPReport{
			Algorithm: totpAlgorithm(cfg.TOTP.Algorithm).String(),
			Digits:    cfg.TOTP.Digits,
			Period:    cfg.TOTP.Period,
			Skew:      cfg.TOTP.Skew,
		},
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		RateLimitingActive:  e.rateLimiter != nil,
		IPThrottleActive:    e.rateLimiter != nil && cfg.RateLimit.EnableIPThrottle,
		SignupThrottle:      e.signupLimiter != nil,
		EnrollmentAttempts:  cfg.Enrollment.MaxAttempts,
		RevokeOtherSessions: cfg.Enrollment.RevokeOtherSessions,
		AuditEnabled:        e.audit != nil,
		LintWarnings:        cfg.Lint().Codes(),
	}
}
