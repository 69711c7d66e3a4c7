// credentialexchange
//
// Handles the exchanges that turn an identity token into AWS temporary creds.
//
// An identity token is resolved to a federated identity id against a Cognito
// identity pool, the id is exchanged for a baseline credential, and a
// baseline credential can be presented to STS to assume a different role.
//
// Baseline and delegated credentials are distinct types, a delegated
// credential can never be the caller of another delegation.
package credentialexchange
