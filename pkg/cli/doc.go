// Package cli implements curator-cli, the administration client for the
// curator permission API.
//
// Every command talks to the server over HTTP. When -token-url is set the
// client authenticates with the OAuth2 client-credentials grant; otherwise
// -user is sent as the X-User-ID header for servers running in header mode.
// Connection flags default to CURATOR_SERVER, CURATOR_USER_ID,
// CURATOR_TOKEN_URL, CURATOR_CLIENT_ID, CURATOR_CLIENT_SECRET and
// CURATOR_SCOPES.
//
// # Commands
//
// roles: list enum and active dynamic roles
//
//	curator-cli roles -locale fr
//
// grants / grant / category-grant: inspect and change role grants
//
//	curator-cli grants -role librarian
//	curator-cli grant -role librarian -permission 12 -granted=false
//	curator-cli category-grant -role curator -category collections
//
// override / revoke-override / overrides: manage per-user exceptions
//
//	curator-cli override -for 6f1c... -permission 12 -granted=false -expires 72h -reason "audit hold"
//	curator-cli overrides -for 6f1c... -active
//	curator-cli revoke-override -id 41
//
// resolve: show effective permissions
//
//	curator-cli resolve -for 6f1c...
//
// Pass -json to any command for the raw response.
package cli
