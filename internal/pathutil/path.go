// Package pathutil provides path manipulation for slash-separated archive names.
package pathutil

import "strings"

// Dir returns everything before the last slash of name, or "" when name has
// no directory part. A trailing slash on name is ignored.
func Dir(name string) string {
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// Base returns the last element of a slash-separated name.
// If name is empty or ".", it returns ".".
func Base(name string) string {
	if name == "" || name == "." {
		return "."
	}
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// DirPrefix converts a directory name to its entry-name prefix form.
// For "" and ".", returns "" (the archive root).
// For other names, appends "/" unless already present.
func DirPrefix(name string) string {
	if name == "" || name == "." {
		return ""
	}
	if strings.HasSuffix(name, "/") {
		return name
	}
	return name + "/"
}

// Join joins an archive prefix and a relative slash path.
func Join(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	rel = strings.TrimPrefix(rel, "/")
	if prefix == "" {
		return rel
	}
	if rel == "" || rel == "." {
		return prefix
	}
	return prefix + "/" + rel
}
