package config

// DiffServices is a pure function comparing two service lists. It returns
// addedOrChanged (names present in newList that are either new or whose
// configuration differs from oldList) and removed (names present in
// oldList but absent from newList). Entries with an empty ProcessName or
// Command are skipped on both sides, per spec.md §3/§4.3.
//
// original_source's DiffProcessPool assigns the *old* config into its
// added-map for changed entries (oldProcessMap[name] instead of the new
// value) - almost certainly a bug, since a "changed" process must be
// restarted with its new command. This implementation uses the new
// config, per spec.md §4.3's "added_or_changed" definition.
func DiffServices(oldList, newList []ProcessConfig) (addedOrChanged, removed map[string]ProcessConfig) {
	oldByName := indexValid(oldList)
	newByName := indexValid(newList)

	addedOrChanged = make(map[string]ProcessConfig)
	removed = make(map[string]ProcessConfig)

	for name, newCfg := range newByName {
		oldCfg, existed := oldByName[name]
		if !existed || !oldCfg.Equal(newCfg) {
			addedOrChanged[name] = newCfg
		}
	}

	for name, oldCfg := range oldByName {
		if _, stillPresent := newByName[name]; !stillPresent {
			removed[name] = oldCfg
		}
	}

	return addedOrChanged, removed
}

func indexValid(list []ProcessConfig) map[string]ProcessConfig {
	out := make(map[string]ProcessConfig, len(list))
	for _, p := range list {
		if !p.valid() {
			continue
		}
		out[p.ProcessName] = p
	}
	return out
}
