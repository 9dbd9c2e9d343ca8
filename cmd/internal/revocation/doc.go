// Package revocation implements "sign out everywhere" for Chirp.
//
// An Issuer invalidates every session a user holds at the identity provider
// and then stamps the user's Record with a cutoff (tokensValidAfterTime, Unix
// seconds). Clients poll the Record and sign themselves out when their
// credential's auth_time is older than the cutoff; Checker answers the same
// question on demand for a client that is just starting up.
package revocation
