// Package valkey provides a Valkey storage backend for the accounts server.
//
// Valkey is wire-compatible with Redis. The Store type implements both
// [storage.Store] and [storage.AdminStore] and is suitable for deployments that
// run several server replicas against shared state.
//
// # Key Schema
//
// All keys use a configurable prefix (default "accounts:"):
//
//	{prefix}client:{clientID}          -> JSON(Client)
//	{prefix}profile:{userID}           -> JSON(Profile), optionally encrypted
//	{prefix}code:{code}                -> JSON(AuthorizationCode)
//	{prefix}code:id:{id}               -> code
//	{prefix}access:{token}             -> JSON(AccessToken)
//	{prefix}access:id:{id}             -> token
//	{prefix}refresh:{token}            -> JSON(RefreshToken)
//	{prefix}refresh:id:{id}            -> token
//	{prefix}lineage:{refreshTokenID}   -> SET of access tokens minted for that refresh token
//
// Codes and tokens carry a TTL of their expiry plus a one hour retention
// window, so expired rows can still be reported as expired rather than unknown.
//
// # Atomic Operations
//
// MarkCodeUsed, RevokeAccessToken and RevokeRefreshToken are compare-and-set
// transitions executed as Lua scripts. Only one concurrent caller observes the
// false to true transition.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "accounts:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Profile Encryption at Rest
//
// Profiles hold personal data. When an encryptor is set with SetEncryptor the
// serialized profile is sealed with AES-256-GCM before it is written.
package valkey
