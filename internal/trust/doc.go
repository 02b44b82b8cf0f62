// Package trust decides whether a file on disk may be used by the
// bootstrapper.
//
// # Security Model
//
// Every artifact the bootstrapper acquires, whether it was found next to the
// bootstrapper, extracted from the package or downloaded, passes through a
// Gate before it is handed to a caller. A Gate is a boolean decision: callers
// never see why a file was rejected, only that it was. Rejection reasons are
// logged at debug level.
//
// Gates never interact with the user. Platform verification APIs that can
// show trust prompts are always driven with their UI disabled.
//
// # Gates
//
//   - SignatureGate: OpenPGP detached signature (<file>.sig or <file>.asc)
//     checked against a keyring of trusted publisher keys
//   - AuthenticodeGate: embedded code-signing signature checked by the
//     operating system (Windows only; rejects everything elsewhere)
//   - AnyOf: trusts a file if any of its gates does
package trust
