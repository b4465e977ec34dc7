package domain

// PrincipalKind distinguishes the kinds of callers allowed to submit work.
type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalAdmin  PrincipalKind = "admin"
	PrincipalSystem PrincipalKind = "system"
)

// Principal is the caller on whose behalf a diagnostic is created.
type Principal interface {
	Identifier() string
	Kind() PrincipalKind
}

// User is a staff member (veterinarian or technician).
type User struct {
	UserID   string
	Username string
}

func (u User) Identifier() string  { return u.UserID }
func (u User) Kind() PrincipalKind { return PrincipalUser }

// Admin is an administrator account.
type Admin struct {
	AdminID  string
	Username string
}

func (a Admin) Identifier() string  { return a.AdminID }
func (a Admin) Kind() PrincipalKind { return PrincipalAdmin }

// System is used for work started from the command line.
type System struct {
	Name string
}

func (s System) Identifier() string  { return s.Name }
func (s System) Kind() PrincipalKind { return PrincipalSystem }
