package core

// Credential is the persisted authentication material of one identity.
// Primary is the rotating core record; Keys holds auxiliary key material
// indexed by key type and key id. Both are opaque to this service.
type Credential struct {
	Primary []byte                       `json:"primary_credential,omitempty"`
	Keys    map[string]map[string][]byte `json:"keys,omitempty"`
}

// IsEmpty reports whether the credential carries neither primary material nor keys.
func (c Credential) IsEmpty() bool {
	return len(c.Primary) == 0 && len(c.Keys) == 0
}

// Merge applies an update on top of c.
// A non-empty Primary replaces the current one; an empty Primary never clears it.
// Key entries are upserted, and an entry whose update value is nil is removed.
func (c *Credential) Merge(update Credential) {
	if len(update.Primary) > 0 {
		c.Primary = append([]byte(nil), update.Primary...)
	}

	for typ, entries := range update.Keys {
		current := c.Keys[typ]
		for id, value := range entries {
			if value == nil {
				delete(current, id)
				continue
			}
			if current == nil {
				current = make(map[string][]byte)
				if c.Keys == nil {
					c.Keys = make(map[string]map[string][]byte)
				}
				c.Keys[typ] = current
			}
			current[id] = append([]byte(nil), value...)
		}
		if current != nil && len(current) == 0 {
			delete(c.Keys, typ)
		}
	}
}

// Clone returns a deep copy.
func (c Credential) Clone() Credential {
	var out Credential
	if c.Primary != nil {
		out.Primary = append([]byte(nil), c.Primary...)
	}
	if c.Keys != nil {
		out.Keys = make(map[string]map[string][]byte, len(c.Keys))
		for typ, entries := range c.Keys {
			cp := make(map[string][]byte, len(entries))
			for id, value := range entries {
				if value == nil {
					cp[id] = nil
					continue
				}
				cp[id] = append([]byte(nil), value...)
			}
			out.Keys[typ] = cp
		}
	}
	return out
}

// Key returns the auxiliary key stored under typ and id.
func (c Credential) Key(typ, id string) ([]byte, bool) {
	value, ok := c.Keys[typ][id]
	return value, ok
}

// KeyCount returns the number of auxiliary key entries across all types.
func (c Credential) KeyCount() int {
	n := 0
	for _, entries := range c.Keys {
		n += len(entries)
	}
	return n
}

// Accumulate folds update into c without applying deletions, so a batch of
// updates can later be merged as one. Nil key values are kept as removal markers.
func (c *Credential) Accumulate(update Credential) {
	if len(update.Primary) > 0 {
		c.Primary = append([]byte(nil), update.Primary...)
	}
	for typ, entries := range update.Keys {
		if c.Keys == nil {
			c.Keys = make(map[string]map[string][]byte)
		}
		current := c.Keys[typ]
		if current == nil {
			current = make(map[string][]byte, len(entries))
			c.Keys[typ] = current
		}
		for id, value := range entries {
			if value == nil {
				current[id] = nil
				continue
			}
			current[id] = append([]byte(nil), value...)
		}
	}
}
