package rbac

import "path/filepath"

// globMatch matches name against a shell-style glob pattern (the same
// "file_*" style glob the proxy's policy rules have always used for
// ToolMatch), reusing path/filepath's matcher since tool/resource/prompt
// names never contain path separators.
func globMatch(pattern, name string) (bool, error) {
	if pattern == "" || pattern == "*" {
		return true, nil
	}
	ok, err := filepath.Match(pattern, name)
	if err != nil {
		return false, errBadGlobPattern
	}
	return ok, nil
}
