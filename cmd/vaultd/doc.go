/*
Vaultd serves the SoulBox vault API.

Configuration is read from built-in defaults, then the YAML file given with
--config, then SOULBOX_* environment variables, then command line flags.

Example:

	SOULBOX_JWT_SECRET=change-me-please-0123 \
	SOULBOX_SEALER_MASTER_SECRET=$(head -c 32 /dev/urandom | base64) \
	vaultd --storage file:///var/lib/soulbox --storage s3://soulbox-backup/items

At startup vaultd re-arms the timers of pending unlock sessions and expires
the ones that ran out while it was down.
*/
package main
