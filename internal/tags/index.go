package tags

// Index maps tags to the transcripts that mention them and back. It is
// rebuilt on every request and never persisted.
type Index struct {
	Tags   []string            `json:"tags"`
	Files  []string            `json:"files"`
	ByFile map[string][]string `json:"by_file"`
	ByTag  map[string][]string `json:"by_tag"`
}

// Source is one transcript to index.
type Source struct {
	Name string
	Data []byte
}

// Build scans each source and aggregates the results. Sources that fail to
// decode are skipped and reported through skipped.
func (s *Scanner) Build(sources []Source) (idx *Index, skipped map[string]error) {
	idx = &Index{
		Tags:   []string{},
		Files:  []string{},
		ByFile: map[string][]string{},
		ByTag:  map[string][]string{},
	}
	all := make(map[string]struct{})

	for _, src := range sources {
		found, err := s.ScanTranscript(src.Data)
		if err != nil {
			if skipped == nil {
				skipped = make(map[string]error)
			}
			skipped[src.Name] = err
			continue
		}
		idx.Files = append(idx.Files, src.Name)
		idx.ByFile[src.Name] = found
		for _, tag := range found {
			all[tag] = struct{}{}
			idx.ByTag[tag] = append(idx.ByTag[tag], src.Name)
		}
	}

	for tag := range all {
		idx.Tags = append(idx.Tags, tag)
	}
	SortFold(idx.Tags)
	SortFold(idx.Files)
	for tag := range idx.ByTag {
		SortFold(idx.ByTag[tag])
	}
	return idx, skipped
}
