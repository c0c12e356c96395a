// package services defines interface Service for interacting with the
// upstream streaming API
//
// Spotify is the only implementation; the interface exists so pollers and
// handlers can run against a test double.
package services
