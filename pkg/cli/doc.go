// Package cli provides the permit command-line interface for the
// authorization engine.
//
// # Overview
//
// This package implements the `permit` CLI, a thin client over the permitd
// HTTP API. Every command acts as a user, passed with -as or PERMIT_USER_ID,
// and talks to the server named by -server or PERMIT_SERVER.
//
// # Commands
//
// roles: List roles with their user and permission counts
//
//	permit roles -as 1
//
// create-role: Create a custom role and optionally link permissions
//
//	permit create-role -as 1 -name EDITOR -description "Edits documents" -permissions 7,8
//
// permissions: List the catalog, or one role's permissions
//
//	permit permissions -as 1 -role 2
//
// assign: Assign or clear a user's role
//
//	permit assign -as 1 -user 42 -role-id 3
//	permit assign -as 1 -user 42 -role-id none
//
// override: Grant, deny or clear a per-user override
//
//	permit override -as 1 -user 42 -permission document:write -value deny
//
// effective: Show the resolved permissions of a user
//
//	permit effective -as 42 -allowed
//
// check: Check one or more permissions; exits non-zero when any is denied
//
//	permit check -as 42 -permission document:read,document:write
package cli
