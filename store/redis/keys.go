package redis

// Redis key naming conventions for cohort membership.
// All keys are prefixed with "cohort:" and the optional namespace.

const keyPrefix = "cohort:"

// memberKey returns the Hash key for a member: cohort:{ns}member:{endpoint}
func (s *Store) memberKey(ep string) string { return s.prefix + "member:" + ep }

// membersKey is the Sorted Set of member endpoints scored by rank.
func (s *Store) membersKey() string { return s.prefix + "members" }
