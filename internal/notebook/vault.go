package notebook

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// maxSearchScan bounds how much of a file body a content search reads.
const maxSearchScan = 64 * 1024

// Vault is the markdown store rooted at a single directory. Note names
// are vault-relative, get a .md extension when missing, and may not
// escape the root.
type Vault struct {
	root       string
	logsFolder string
	version    string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NoteInfo describes one file in a listing or search result.
type NoteInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// NewVault creates the vault handle. The root directory is created on
// first write, not here, so a read-only deployment can still probe.
func NewVault(root, logsFolder, version string) *Vault {
	return &Vault{
		root:       root,
		logsFolder: logsFolder,
		version:    version,
		locks:      map[string]*sync.Mutex{},
	}
}

// Root returns the vault root directory.
func (v *Vault) Root() string { return v.root }

// EnsureWritable creates the root if needed and proves write access
// with a probe file.
func (v *Vault) EnsureWritable() error {
	const op = "notebook: ensure writable"
	if err := os.MkdirAll(v.root, 0o755); err != nil {
		return errs.Wrap(errs.KindGovernanceBlocked, op, err)
	}
	probe := filepath.Join(v.root, ".write-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return errs.Wrap(errs.KindGovernanceBlocked, op, err)
	}
	os.Remove(probe)
	return nil
}

// pathLock returns the mutex serializing writes for one resolved path.
func (v *Vault) pathLock(path string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[path]
	if !ok {
		l = &sync.Mutex{}
		v.locks[path] = l
	}
	return l
}

// resolve maps a note name onto a path inside the root, rejecting
// traversal attempts.
func (v *Vault) resolve(name string) (string, error) {
	const op = "notebook: resolve name"
	if name == "" {
		return "", errs.New(errs.KindInvalidInput, op, "name is required")
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errs.Newf(errs.KindInvalidInput, op, "name %q escapes the vault", name)
	}
	return filepath.Join(v.root, clean), nil
}

// Exists reports whether a note is present in the vault.
func (v *Vault) Exists(name string) bool {
	path, err := v.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Write atomically replaces a note. A frontmatter block, when given,
// is prepended with a blank line before the body.
func (v *Vault) Write(name, body string, fm *Frontmatter) error {
	const op = "notebook: write"
	path, err := v.resolve(name)
	if err != nil {
		return err
	}
	content := body
	if fm != nil && fm.Len() > 0 {
		content = fm.Format() + "\n" + body
	}

	l := v.pathLock(path)
	l.Lock()
	defer l.Unlock()
	if err := writeAtomic(path, content); err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	return nil
}

// Append concatenates body onto a note with a blank-line separator,
// creating the note when absent.
func (v *Vault) Append(name, body string) error {
	const op = "notebook: append"
	path, err := v.resolve(name)
	if err != nil {
		return err
	}

	l := v.pathLock(path)
	l.Lock()
	defer l.Unlock()

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		content := strings.TrimRight(string(existing), "\n") + "\n\n" + body
		if err := writeAtomic(path, content); err != nil {
			return errs.Wrap(errs.KindInternal, op, err)
		}
		return nil
	case os.IsNotExist(err):
		if err := writeAtomic(path, body); err != nil {
			return errs.Wrap(errs.KindInternal, op, err)
		}
		return nil
	default:
		return errs.Wrap(errs.KindInternal, op, err)
	}
}

// Read returns a note's frontmatter map and body.
func (v *Vault) Read(name string) (map[string]any, string, error) {
	const op = "notebook: read"
	path, err := v.resolve(name)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", errs.Newf(errs.KindNotFound, op, "note %q", name)
	}
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInternal, op, err)
	}
	fm, body, err := SplitFrontmatter(string(raw))
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInternal, op, err)
	}
	return fm, body, nil
}

// List returns up to limit notes ordered by modification time.
// Order is "newest" (default) or "oldest".
func (v *Vault) List(limit int, order string) ([]NoteInfo, error) {
	const op = "notebook: list"
	if limit <= 0 {
		limit = 50
	}
	infos, err := v.scan()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	sort.Slice(infos, func(i, j int) bool {
		if order == "oldest" {
			return infos[i].Modified < infos[j].Modified
		}
		return infos[i].Modified > infos[j].Modified
	})
	if len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

// Search matches the query against filenames and, when searchBody is
// set, against a bounded prefix of each file's content.
func (v *Vault) Search(query string, searchBody bool, limit int) ([]NoteInfo, error) {
	const op = "notebook: search"
	if query == "" {
		return nil, errs.New(errs.KindInvalidInput, op, "query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)

	infos, err := v.scan()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Modified > infos[j].Modified })

	var out []NoteInfo
	for _, info := range infos {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(info.Name), needle) {
			out = append(out, info)
			continue
		}
		if !searchBody {
			continue
		}
		if containsBounded(info.Path, needle) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (v *Vault) scan() ([]NoteInfo, error) {
	var infos []NoteInfo
	err := filepath.WalkDir(v.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == v.root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return err
		}
		infos = append(infos, NoteInfo{
			Name:     rel,
			Path:     path,
			Size:     fi.Size(),
			Modified: fi.ModTime().UTC().Format("2006-01-02T15:04:05.000Z"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func containsBounded(path, lowerNeedle string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, maxSearchScan)
	n, _ := f.Read(buf)
	return strings.Contains(strings.ToLower(string(buf[:n])), lowerNeedle)
}

// writeAtomic writes content to a temp file in the target directory
// and renames it into place.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
