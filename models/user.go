package models

// UserProfile is an immutable snapshot of the signed-in user, fetched at
// login and replaced only by an explicit update
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

// BiometricCredentials is the plaintext credential bundle stored behind the
// biometric gate for fast re-login. It only ever exists at rest inside the
// encrypted secure store.
type BiometricCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
