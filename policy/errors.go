package policy

import "errors"

// errUnsatisfiable signals that no augmentation of the candidate location
// set can satisfy the policy. locality.Set.PushLocations treats this as an
// invariant violation and panics rather than returning it (§4.1).
var errUnsatisfiable = errors.New("policy: cannot satisfy replication policy")
