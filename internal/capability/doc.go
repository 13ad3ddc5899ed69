// Package capability implements the per-process permission store consulted
// before every privileged operation.
//
// A Permission is a closed tagged variant (Kind plus an optional target
// process), so the authorization switch over kinds stays exhaustive at build
// time. A permission whose target is the zero handle is the ungoverned form:
// it covers every process.
//
// Key rules:
//   - Grant requires the granter to already hold the exact permission (or
//     its ungoverned form) and a grant capability for it.
//   - Revocation is always allowed over permissions the revoker originally
//     granted, and always for self-revocation.
//   - Check is a pure lookup with no side effects.
//
// Side effects of Grant/Revoke are confined to the grantee's capability set;
// the table never touches the resource registry or the scheduler.
package capability
