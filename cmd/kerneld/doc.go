// Command kerneld boots the resource-authorization core and serves its
// introspection and control surface.
//
// Configuration comes from EXOCORE_-prefixed environment variables (see
// internal/config) with flag overrides for the listen address. The boot
// process (handle 1) is registered with the full permission set, the
// loader's boot-time special case.
package main
