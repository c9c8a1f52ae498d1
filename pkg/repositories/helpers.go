package repositories

// nullableString converts an empty string to nil for nullable columns.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonbValueMap converts a map to JSONB format for database insertion.
func jsonbValueMap(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
