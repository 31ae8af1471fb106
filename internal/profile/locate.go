package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var profileExts = []string{".yaml", ".yml"}

// Locate 按引用查找 profile 文件：先看原路径，缺扩展名时补 .yaml/.yml，
// 相对路径再依次在 bases 下查找。返回第一个存在的普通文件。
func Locate(ref string, bases ...string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("profile 路径为空")
	}
	for _, path := range candidatePaths(ref, bases) {
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("profile 文件 %s 未找到: %w", ref, os.ErrNotExist)
}

func candidatePaths(ref string, bases []string) []string {
	cleaned := filepath.Clean(ref)
	variants := []string{cleaned}
	if filepath.Ext(cleaned) == "" {
		for _, ext := range profileExts {
			variants = append(variants, cleaned+ext)
		}
	}
	paths := append([]string(nil), variants...)
	if filepath.IsAbs(cleaned) {
		return uniqueStrings(paths)
	}
	for _, base := range bases {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		for _, v := range variants {
			paths = append(paths, filepath.Join(base, v))
		}
	}
	return uniqueStrings(paths)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
