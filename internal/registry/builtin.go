package registry

const urbitRepo = "https://github.com/urbit/urbit"

// builtinTable is the offline fallback: the standard Urbit system and
// library files plus the nockchain tree.
func builtinTable() map[string]Entry {
	table := map[string]Entry{
		"nockchain": {GitURL: "https://github.com/nockchain/nockchain"},
	}
	for _, sys := range []string{"zuse", "lull", "hoon", "arvo"} {
		table["urbit/"+sys] = Entry{
			GitURL:      urbitRepo,
			Path:        "pkg/arvo/sys",
			InstallPath: "sys",
			File:        sys + ".hoon",
		}
	}
	for _, lib := range []string{"map", "bits", "list", "maplist", "math", "mapset", "set", "tiny"} {
		table[lib] = Entry{
			GitURL:      urbitRepo,
			Path:        "pkg/arvo/lib",
			InstallPath: "lib",
			File:        lib + ".hoon",
		}
	}
	return table
}
