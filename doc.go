// Package session keeps the authentication session of an application in sync
// with a remote identity service.
//
// Manager:
//   - Bootstrap restores a persisted remote session once at startup and then
//     follows identity changes (sign in, token refresh, sign out) reported by
//     the IdentityService.
//   - Login, Register, LoginWithProvider, Logout and UpdateProfile reconcile
//     the local state with the remote service. Remote writes happen first and
//     local state only changes after they succeed.
//   - One state changing operation runs at a time; overlapping calls fail with
//     ErrBusy.
//
// Store:
//   - Store holds the SessionState and notifies subscribers in commit order.
//     Consumers read snapshots and never write.
//
// Avatars:
//   - AvatarHandler uploads avatar images to ObjectStorage with a unique key
//     per upload, points the identity metadata at the new asset and deletes
//     the superseded one best-effort.
//
// Activity sinks:
//   - ActivitySink receives audit events for every operation. Sinks run
//     best-effort (errors are logged).
//
// Remote clients for Supabase compatible services live in the gotrue and
// storage packages.
package session
