// Package provision allocates and relocates per-account OS resources (home
// directory, data directory, login shell) and keeps the persisted provisioning
// record synchronized with the filesystem.
package provision

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"spawnhub/internal/fault"
	"spawnhub/internal/model"
)

// OSAccounts mutates host account attributes through typed, parameterized
// operations; paths are never spliced into command strings.
type OSAccounts interface {
	MoveHome(ctx context.Context, name, newHome string) error
	SetShell(ctx context.Context, name, shell string) error
}

// Recorder persists provisioning records; satisfied by the registry.
type Recorder interface {
	Record(name string) (model.ProvisioningRecord, bool)
	PutRecord(rec model.ProvisioningRecord) error
}

type Provisioner struct {
	fs       afero.Fs
	accounts OSAccounts
	records  Recorder

	// defaults used at account creation
	homeRoot     string
	dataRoot     string
	defaultShell string
}

type Options struct {
	Fs           afero.Fs
	Accounts     OSAccounts
	Records      Recorder
	HomeRoot     string
	DataRoot     string
	DefaultShell string
}

func New(opts Options) *Provisioner {
	p := &Provisioner{
		fs:           opts.Fs,
		accounts:     opts.Accounts,
		records:      opts.Records,
		homeRoot:     opts.HomeRoot,
		dataRoot:     opts.DataRoot,
		defaultShell: opts.DefaultShell,
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.homeRoot == "" {
		p.homeRoot = "/home"
	}
	if p.dataRoot == "" {
		p.dataRoot = "/data"
	}
	if p.defaultShell == "" {
		p.defaultShell = "/bin/bash"
	}
	return p
}

// Provision allocates the conventional paths for a new account and creates
// its data directory. The directory is group/world writable on purpose; the
// single-user servers run under the account's own uid and share datasets
// through it. A creation failure is returned so the caller can roll back the
// account.
func (p *Provisioner) Provision(account model.Account) (model.ProvisioningRecord, error) {
	rec := model.ProvisioningRecord{
		AccountName: account.Name,
		Home:        filepath.Join(p.homeRoot, account.Name),
		DataDir:     filepath.Join(p.dataRoot, account.Name),
		Shell:       p.defaultShell,
		UpdatedAt:   time.Now().UnixMilli(),
	}

	if err := p.fs.MkdirAll(rec.DataDir, 0o777); err != nil {
		return model.ProvisioningRecord{}, fault.Wrap(fault.Upstream, err, "failed to create data dir %s", rec.DataDir)
	}

	if err := p.records.PutRecord(rec); err != nil {
		return model.ProvisioningRecord{}, err
	}
	return rec, nil
}

// step is one schedulable OS-level mutation. Validation happens while the
// plan is built; Apply runs later.
type step struct {
	desc  string
	apply func(ctx context.Context) error
}

// Edit applies a changed provisioning record. All changed fields are validated
// before any command runs; commands then execute sequentially and
// independently. A failure after earlier successes surfaces as PartialFailure
// naming the applied steps, since OS-level mutations are not rolled back. The
// persisted record is updated only after every step succeeded.
func (p *Provisioner) Edit(ctx context.Context, account model.Account, want model.ProvisioningRecord) (model.ProvisioningRecord, error) {
	cur, ok := p.records.Record(account.Name)
	if !ok {
		return model.ProvisioningRecord{}, fault.New(fault.NotFound, "user %s has no provisioning record", account.Name)
	}

	var plan []step

	if want.Home != "" && want.Home != cur.Home {
		if p.exists(want.Home) {
			return model.ProvisioningRecord{}, fault.New(fault.Conflict, "home dir %s already exists, pick another", want.Home)
		}
		home := want.Home
		plan = append(plan, step{
			desc:  "move home to " + home,
			apply: func(ctx context.Context) error { return p.accounts.MoveHome(ctx, account.Name, home) },
		})
	}

	if want.DataDir != "" && want.DataDir != cur.DataDir {
		if p.exists(want.DataDir) {
			return model.ProvisioningRecord{}, fault.New(fault.Conflict, "data dir %s already exists, pick another", want.DataDir)
		}
		oldData, newData := cur.DataDir, want.DataDir
		if !p.exists(oldData) {
			plan = append(plan, step{
				desc:  "create data dir " + newData,
				apply: func(ctx context.Context) error { return p.fs.MkdirAll(newData, 0o777) },
			})
		} else {
			plan = append(plan, step{
				desc:  "move data dir " + oldData + " to " + newData,
				apply: func(ctx context.Context) error { return p.fs.Rename(oldData, newData) },
			})
		}
	}

	if want.Shell != "" && want.Shell != cur.Shell {
		if err := p.checkShell(want.Shell); err != nil {
			return model.ProvisioningRecord{}, err
		}
		shell := want.Shell
		plan = append(plan, step{
			desc:  "set shell to " + shell,
			apply: func(ctx context.Context) error { return p.accounts.SetShell(ctx, account.Name, shell) },
		})
	}

	var applied []string
	for _, st := range plan {
		if err := st.apply(ctx); err != nil {
			if len(applied) > 0 {
				return model.ProvisioningRecord{}, fault.Partial(err, applied, st.desc)
			}
			return model.ProvisioningRecord{}, fault.Wrap(fault.Upstream, err, "provisioning step %q failed", st.desc)
		}
		applied = append(applied, st.desc)
	}

	updated := cur
	if want.Home != "" {
		updated.Home = want.Home
	}
	if want.DataDir != "" {
		updated.DataDir = want.DataDir
	}
	if want.Shell != "" {
		updated.Shell = want.Shell
	}
	updated.UpdatedAt = time.Now().UnixMilli()

	if err := p.records.PutRecord(updated); err != nil {
		return model.ProvisioningRecord{}, err
	}
	return updated, nil
}

func (p *Provisioner) exists(path string) bool {
	_, err := p.fs.Stat(path)
	return err == nil
}

func (p *Provisioner) checkShell(path string) error {
	info, err := p.fs.Stat(path)
	if err != nil {
		return fault.New(fault.InvalidArgument, "shell %s does not exist, pick another", path)
	}
	if !info.Mode().IsRegular() {
		return fault.New(fault.InvalidArgument, "shell %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fault.New(fault.InvalidArgument, "shell %s is not executable", path)
	}
	return nil
}
