package accounts

import (
	"github.com/nordlib/patron-engine/internal/taskres"
)

// LoginState is the closed set of per-account login states. Exactly one
// state holds at any instant; transitions happen only through
// Account.SetState by the task owning the operation.
type LoginState interface {
	loginState()
	String() string
}

type NotLoggedIn struct{}

func (NotLoggedIn) loginState()    {}
func (NotLoggedIn) String() string { return "NotLoggedIn" }

type LoggingIn struct {
	Status      string
	Description Description
	Cancellable bool
}

func (LoggingIn) loginState()    {}
func (LoggingIn) String() string { return "LoggingIn" }

type LoggingInWaitingForExternal struct {
	Status      string
	Description Description
}

func (LoggingInWaitingForExternal) loginState() {}
func (LoggingInWaitingForExternal) String() string {
	return "LoggingInWaitingForExternalAuthentication"
}

type LoggedIn struct {
	Credentials Credentials
}

func (LoggedIn) loginState()    {}
func (LoggedIn) String() string { return "LoggedIn" }

type LoginFailed struct {
	Result taskres.Result[Credentials]
}

func (LoginFailed) loginState()    {}
func (LoginFailed) String() string { return "LoginFailed" }

type LoggingOut struct {
	Credentials Credentials
	Status      string
}

func (LoggingOut) loginState()    {}
func (LoggingOut) String() string { return "LoggingOut" }

type LogoutFailed struct {
	Result taskres.Result[taskres.Unit]
}

func (LogoutFailed) loginState()    {}
func (LogoutFailed) String() string { return "LogoutFailed" }
