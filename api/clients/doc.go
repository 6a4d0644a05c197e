/*
Package clients provides a Go client for the SoulBox vault HTTP API.

VaultClient wraps every endpoint served by api/vaulthandler. It carries one
bearer token; use WithToken to act as another role against the same server:

	creator := clients.NewVaultClient("http://127.0.0.1:8080", creatorToken)
	item, err := creator.SealItem(ctx, api.SealRequest{...})

	public := clients.NewVaultClient("http://127.0.0.1:8080", "")
	res, err := public.VerifyIdentity(ctx, api.VerifyIdentityRequest{...})
	beneficiary := public.WithToken(res.Token)

Non-success responses are returned as *APIError, which unwraps to the
matching sentinel from the interfaces package, so callers can use
errors.Is(err, interfaces.ErrSessionExpired) on the client side as well.
*/
package clients
