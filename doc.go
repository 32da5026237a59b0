// Package auth provides the authentication and account lifecycle core:
// credential verification, session token issuance with refresh rotation,
// single-use activation/reset tokens, and role scoped account transitions.
//
// Storage:
//   - Accounts, roles and single-use tokens live in flat tables linked by id.
//     RepositoryManager groups the repositories and runs transactions.
//   - Every state change is a conditional UPDATE evaluated by the store. The
//     caller checks the affected row count, so concurrent workers racing on
//     the same token or account never both win.
//
// Scoping:
//   - Scope is a predicate value (role filter plus soft-delete visibility)
//     handed to ScopedAccounts. Accounts outside the scope are NotFound.
//
// Lifecycle:
//   - AccountStateMachine drives activate, softDelete, restore and
//     resetPassword. Activation and reset consume their token in the same
//     transaction as the account update.
//
// Mail:
//   - Tokens commit before any mail is sent. Mailer failures are logged and
//     recorded through the ActivitySink but never roll back a token.
package auth
