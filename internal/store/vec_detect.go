package store

// detectVecExtension probes for sqlite-vec by attempting to create a throwaway
// virtual table. Builds without the sqlite_vec tag simply report unavailable
// rather than failing store initialization - knowledge search degrades to
// unavailable, everything else keeps working.
func (s *Store) detectVecExtension() bool {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		return false
	}
	_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	return true
}
