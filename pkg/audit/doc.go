/*
Package audit archives the event stream to a local bolt database.

The coordination core persists nothing itself; the archive is an optional
external consumer shipped in-repo. It subscribes to every topic on the
router and appends each event as a JSON entry under a monotonic sequence
key. State diffs and problem tickets are additionally indexed per
component, so answering "what happened to this component" is one prefix
scan.

Archiving is strictly one-way: writes that fail are logged and dropped,
and nothing in the core reads the archive back. Readers are external
tools and the HTTP surface's history endpoints.
*/
package audit
