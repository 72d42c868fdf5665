package api

// FileContentsRequest is the body of POST /changes/file-contents.
type FileContentsRequest struct {
	WorkspaceID string   `json:"workspaceId" binding:"required"`
	Ref         string   `json:"ref" binding:"required"`
	Paths       []string `json:"paths" binding:"required"`
}

// IgnorePatternsRequest is the body of PUT /changes/ignore.
type IgnorePatternsRequest struct {
	Patterns []string `json:"patterns"`
}
