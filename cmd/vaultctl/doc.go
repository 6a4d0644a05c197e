/*
Vaultctl is the command line client of the SoulBox vault.

A full unlock, with the server at SOULBOX_SERVER:

	# creator
	export SOULBOX_TOKEN=$(vaultctl token --jwt-secret $SECRET | jq -r .token)
	vaultctl guardian add --name Alice --email alice@example.com
	vaultctl guardian add --name Bob --email bob@example.com
	vaultctl beneficiary add --first-name Jane --last-name Doe --email jane@example.com --id-number AB123456
	vaultctl seal --title "Letter" --message "..." --threshold 2 --guardian $ALICE --guardian $BOB

	# beneficiary
	vaultctl keygen --private-key jane.pem --public-key jane.pub
	vaultctl verify --beneficiary $JANE --item $ITEM --full-name "Jane Doe" \
		--id-number AB123456 --secret-token $SECRET_TOKEN --delivery-key jane.pub
	vaultctl --token $SESSION_TOKEN request --session $SESSION --guardian $ALICE

	# each guardian, with the token from its release notice
	vaultctl --token $RELEASE_TOKEN release --session $SESSION --guardian $ALICE

	# beneficiary, once quorum is reached
	vaultctl --token $SESSION_TOKEN collect --session $SESSION --private-key jane.pem
*/
package main
