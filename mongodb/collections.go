package mongodb

const (
	TokensCollection     = "auth_onetime_tokens" // One-time second-factor tokens
	SessionsCollection   = "auth_sessions"       // Login sessions
	PrincipalsCollection = "auth_principals"     // Registered principals/devices
)
