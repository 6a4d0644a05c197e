/*
Package api holds the wire types and server configuration of the SoulBox vault
HTTP API.

Subpackages:

 1. vaulthandler - chi routes mapping requests onto vault.Service
 2. clients - Go client for the same routes

Binary payloads (item contents, guardian shares, delivery envelopes) travel as
base64 strings inside JSON. Decrypted item contents never appear in a
response; a beneficiary collects them as an ECIES envelope encrypted to the
delivery key supplied at identity verification.
*/
package api
