// Package job persists and reloads the job descriptor — the configuration
// file that binds a source subvolume to a destination container and records
// the authoritative retention expressions and synchronisation state. The
// descriptor is serialised as an INI document and stored on both the source
// and destination container subvolumes.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/snapkeep/snapkeep/internal/endpoint"
)

// FileName is the name of the descriptor file, stored immediately inside
// the container subvolume on each side.
const FileName = ".btrfs-sxbackup"

// CurrentFormatVersion is the format-version major this build writes and
// the highest major it accepts on read.
const CurrentFormatVersion = 1

// DefaultContainerName is the directory a fresh `init` places immediately
// below the source subvolume when no explicit container path is given.
// Older descriptors may instead point at a bare "sxbackup" (no leading
// dot) container; that legacy name is data, not convention, and continues
// to work unchanged since the container path is always read back from the
// descriptor rather than re-derived.
const DefaultContainerName = ".sxbackup"

// ErrVersionIncompatible is returned by Load when the descriptor's
// format-version major is newer than CurrentFormatVersion.
var ErrVersionIncompatible = errors.New("job: descriptor format version is incompatible with this build")

// ErrMissing is returned by Load when the descriptor file does not exist.
var ErrMissing = errors.New("job: descriptor file is missing")

// Descriptor is the persisted job configuration. SourceURL/DestinationURL
// let either side identify the other so any of init/run/update/info/
// purge/destroy/transfer can be invoked against either end.
type Descriptor struct {
	SourceURL                string
	DestinationURL           string
	SourceContainerPath      string
	DestinationContainerPath string
	SourceRetention          string
	DestinationRetention     string
	Compress                 bool
	FormatVersion            int

	// SourceSubvolume is the tree snapshotted into the source container. If
	// empty, it defaults to the parent directory of SourceContainerPath (the
	// container sits immediately below the subvolume it protects, per the
	// default container-naming convention). It may instead name a
	// "docker-volume://<name>" reference, resolved to a host mountpoint at
	// run time.
	SourceSubvolume string

	// LastSyncedSnapshot is the name of the snapshot both sides agreed on at
	// the end of the most recently successful run. It is advisory: the
	// authoritative parent is always recomputed from both sides' live
	// inventories via latest_common, but a mismatch between the two is what
	// distinguishes a cold first run from a diverged one.
	LastSyncedSnapshot string

	// HookPreSnapshot and HookPostTransfer are shell command strings run
	// before source.create and after a successful transfer, respectively.
	HookPreSnapshot  string
	HookPostTransfer string

	// WebhookURL and WebhookSecret configure an optional notification sink
	// fired on job completion.
	WebhookURL    string
	WebhookSecret string

	// Unknown preserves any keys this build does not recognise, so a
	// descriptor written by a newer build round-trips through an older one
	// without losing data.
	Unknown map[string]string
}

const sectionName = "Job"

var knownKeys = map[string]bool{
	"source": true, "destination": true,
	"source-container": true, "destination-container": true,
	"source-retention": true, "destination-retention": true,
	"compress": true, "format-version": true,
	"hook-pre-snapshot": true, "hook-post-transfer": true,
	"webhook-url": true, "webhook-secret": true,
	"source-subvolume": true, "last-synced-snapshot": true,
}

// Load reads and parses the descriptor at <containerPath>/FileName on ep.
// It tolerates unknown keys but rejects an unknown format-version major.
func Load(ctx context.Context, ep endpoint.Endpoint, containerPath string) (*Descriptor, error) {
	p := containerPath + "/" + FileName
	data, _, err := ep.Exec(ctx, []string{"cat", p})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissing, p, err)
	}

	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("job: malformed descriptor at %s: %w", p, err)
	}
	sec := f.Section(sectionName)

	d := &Descriptor{
		SourceURL:                sec.Key("source").String(),
		DestinationURL:           sec.Key("destination").String(),
		SourceContainerPath:      sec.Key("source-container").String(),
		DestinationContainerPath: sec.Key("destination-container").String(),
		SourceRetention:          sec.Key("source-retention").String(),
		DestinationRetention:     sec.Key("destination-retention").String(),
		Compress:                 sec.Key("compress").MustBool(false),
		HookPreSnapshot:          sec.Key("hook-pre-snapshot").String(),
		HookPostTransfer:         sec.Key("hook-post-transfer").String(),
		WebhookURL:               sec.Key("webhook-url").String(),
		WebhookSecret:            sec.Key("webhook-secret").String(),
		SourceSubvolume:          sec.Key("source-subvolume").String(),
		LastSyncedSnapshot:       sec.Key("last-synced-snapshot").String(),
		Unknown:                  map[string]string{},
	}

	fv, err := strconv.Atoi(sec.Key("format-version").String())
	if err != nil {
		return nil, fmt.Errorf("job: malformed format-version in %s: %w", p, err)
	}
	d.FormatVersion = fv
	if fv > CurrentFormatVersion {
		return nil, fmt.Errorf("%w: descriptor at %s has format-version %d, this build supports up to %d", ErrVersionIncompatible, p, fv, CurrentFormatVersion)
	}

	for _, k := range sec.Keys() {
		if !knownKeys[k.Name()] {
			d.Unknown[k.Name()] = k.String()
		}
	}

	return d, nil
}

// Save renders d as an INI document and writes it to
// <containerPath>/FileName on ep, overwriting any existing file.
func Save(ctx context.Context, ep endpoint.Endpoint, containerPath string, d *Descriptor) error {
	if d.FormatVersion == 0 {
		d.FormatVersion = CurrentFormatVersion
	}

	f := ini.Empty()
	sec, err := f.NewSection(sectionName)
	if err != nil {
		return fmt.Errorf("job: building descriptor: %w", err)
	}

	set := func(key, val string) {
		if val == "" {
			return
		}
		sec.Key(key).SetValue(val)
	}
	set("source", d.SourceURL)
	set("destination", d.DestinationURL)
	set("source-container", d.SourceContainerPath)
	set("destination-container", d.DestinationContainerPath)
	set("source-retention", d.SourceRetention)
	set("destination-retention", d.DestinationRetention)
	sec.Key("compress").SetValue(strconv.FormatBool(d.Compress))
	sec.Key("format-version").SetValue(strconv.Itoa(d.FormatVersion))
	set("hook-pre-snapshot", d.HookPreSnapshot)
	set("hook-post-transfer", d.HookPostTransfer)
	set("webhook-url", d.WebhookURL)
	set("webhook-secret", d.WebhookSecret)
	set("source-subvolume", d.SourceSubvolume)
	set("last-synced-snapshot", d.LastSyncedSnapshot)
	for k, v := range d.Unknown {
		sec.Key(k).SetValue(v)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fmt.Errorf("job: rendering descriptor: %w", err)
	}

	p := containerPath + "/" + FileName
	if err := writeFile(ctx, ep, p, buf.Bytes()); err != nil {
		return fmt.Errorf("job: writing descriptor to %s: %w", p, err)
	}
	return nil
}

// Exists reports whether a descriptor file is present at containerPath.
func Exists(ctx context.Context, ep endpoint.Endpoint, containerPath string) bool {
	_, _, err := ep.Exec(ctx, []string{"test", "-f", containerPath + "/" + FileName})
	return err == nil
}

// writeFile writes data to path on ep via a shell redirection, since
// Endpoint.Exec has no stdin of its own: both Local and Remote commands are
// run through an explicit "sh -c" so the redirect is interpreted by a shell
// rather than passed literally to cat as an argument.
func writeFile(ctx context.Context, ep endpoint.Endpoint, path string, data []byte) error {
	redirect := fmt.Sprintf("cat > %s", ep.ShellQuote([]string{path}))
	cmd := ep.Command(ctx, []string{"sh", "-c", redirect})
	cmd.Stdin = bytes.NewReader(data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
