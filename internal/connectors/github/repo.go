package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
)

// RepoFile represents a file from a GitHub repository
type RepoFile struct {
	Path        string // Full path: src/components/Button.tsx
	Folder      string // Parent folder: src/components
	Name        string // File name: Button.tsx
	SHA         string // File SHA
	Size        int    // File size in bytes
	Content     string // Decoded content (for text files)
	URL         string // GitHub URL
	DownloadURL string // Raw download URL
}

// ListFiles returns all files in a repo for a given branch
// Filters by extension (e.g., ".go", ".ts", ".md")
// Excludes binary files and specified paths
func (c *Connector) ListFiles(ctx context.Context, owner, repo, branch string, extensions []string, excludePaths []string) ([]RepoFile, error) {
	// Get the tree recursively
	tree, _, err := c.client.Git.GetTree(ctx, owner, repo, branch, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	var files []RepoFile

	// Build extension map for quick lookup
	extMap := make(map[string]bool)
	for _, ext := range extensions {
		extMap[strings.ToLower(ext)] = true
	}

	for _, entry := range tree.Entries {
		// Skip directories and submodules
		if entry.GetType() != "blob" {
			continue
		}

		path := entry.GetPath()

		// Check exclude paths
		if shouldExclude(path, excludePaths) {
			continue
		}

		// Check extension filter (if provided)
		if len(extensions) > 0 {
			ext := strings.ToLower(filepath.Ext(path))
			if !extMap[ext] {
				continue
			}
		}

		// Skip likely binary files by extension
		if isBinaryExtension(path) {
			continue
		}

		file := RepoFile{
			Path:   path,
			Folder: filepath.Dir(path),
			Name:   filepath.Base(path),
			SHA:    entry.GetSHA(),
			Size:   entry.GetSize(),
			URL:    fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", owner, repo, branch, path),
		}

		files = append(files, file)
	}

	return files, nil
}

// GetFileContent fetches the content of a single file
func (c *Connector) GetFileContent(ctx context.Context, owner, repo, branch, path string) (*RepoFile, error) {
	content, _, _, err := c.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{
		Ref: branch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file content: %w", err)
	}

	if content == nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	file := &RepoFile{
		Path:        content.GetPath(),
		Folder:      filepath.Dir(content.GetPath()),
		Name:        content.GetName(),
		SHA:         content.GetSHA(),
		Size:        content.GetSize(),
		URL:         content.GetHTMLURL(),
		DownloadURL: content.GetDownloadURL(),
	}

	// Decode content (base64)
	if content.Content != nil {
		decoded, err := base64.StdEncoding.DecodeString(*content.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode content: %w", err)
		}
		file.Content = string(decoded)
	}

	return file, nil
}

// shouldExclude checks if a path should be excluded
func shouldExclude(path string, excludePaths []string) bool {
	for _, exclude := range excludePaths {
		// Handle directory exclusion (e.g., "vendor/")
		if strings.HasSuffix(exclude, "/") {
			if strings.HasPrefix(path, exclude) || strings.Contains(path, "/"+exclude) {
				return true
			}
		} else if strings.Contains(path, exclude) {
			return true
		}
	}
	return false
}

// isBinaryExtension checks if a file is likely binary based on extension
func isBinaryExtension(path string) bool {
	binaryExts := map[string]bool{
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".svg": true,
		".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
		".zip": true, ".tar": true, ".gz": true, ".rar": true, ".7z": true,
		".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
		".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
		".pyc": true, ".pyo": true, ".class": true, ".o": true, ".a": true,
		".lock": true, // package locks are often large and not useful
	}
	ext := strings.ToLower(filepath.Ext(path))
	return binaryExts[ext]
}
