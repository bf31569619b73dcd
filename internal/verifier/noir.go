package verifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/pkg/errors"
	"zkdpp/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const (
	verifierInputsFile = "Verifier.toml"
	manifestFile       = "Nargo.toml"
	maxDiagnostic      = 2048
)

// NoirConfig locates the nargo toolchain and the circuit sources.
type NoirConfig struct {
	NargoBin    string
	CircuitsDir string
	CacheDir    string
	VerifyArgs  []string
	Timeout     time.Duration
}

// runFunc executes a toolchain command in dir and returns its combined diagnostics.
type runFunc func(ctx context.Context, dir, bin string, args ...string) ([]byte, error)

// NoirVerifier shells out to nargo. Each predicate's circuit is compiled once per process
// into CacheDir and then reused for every verification.
type NoirVerifier struct {
	cfg    NoirConfig
	logger logger.Logger
	builds singleflight.Group
	run    runFunc
}

func NewNoirVerifier(cfg NoirConfig, log logger.Logger) *NoirVerifier {
	if cfg.NargoBin == "" {
		cfg.NargoBin = "nargo"
	}
	if len(cfg.VerifyArgs) == 0 {
		cfg.VerifyArgs = []string{"verify"}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "zkdpp-circuits")
	}
	cfg.Timeout = defaultTimeout(cfg.Timeout)
	return &NoirVerifier{cfg: cfg, logger: log, run: runCommand}
}

// Verify writes the proof and its public inputs into a scratch copy of the compiled
// circuit package and runs the verify command there. Exit status zero accepts the proof, any
// other exit status rejects it.
func (v *NoirVerifier) Verify(ctx context.Context, predicate *domain.PredicateDescriptor, proof []byte, inputs domain.PublicInputs) (Result, error) {
	set, err := BuildInputs(predicate, inputs)
	if err != nil {
		return rejected(err.Error()), nil
	}
	doc, err := set.TOML()
	if err != nil {
		return rejected(fmt.Sprintf("public inputs could not be serialised: %v", err)), nil
	}

	buildDir, err := v.ensureCompiled(ctx, predicate)
	if err != nil {
		return Result{}, err
	}

	work, err := v.prepareWorkspace(buildDir, predicate, proof, doc)
	if err != nil {
		return Result{}, errors.Wrap(err, "prepare verifier workspace")
	}
	defer os.RemoveAll(work)

	runCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	started := time.Now()
	out, err := v.run(runCtx, work, v.cfg.NargoBin, v.cfg.VerifyArgs...)
	elapsed := time.Since(started)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{}, errors.Wrap(errors.ErrVerifierTimeout, v.cfg.Timeout.String())
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			reason := fmt.Sprintf("verifier exited with status %d", exitErr.ExitCode())
			if diag := trimDiagnostic(out); diag != "" {
				reason += ": " + diag
			}
			v.logger.Debug("Proof rejected by nargo", map[string]interface{}{
				"predicate_id": predicate.ID.Canonical(),
				"exit_code":    exitErr.ExitCode(),
				"duration_ms":  elapsed.Milliseconds(),
			})
			return rejected(reason), nil
		}
		return Result{}, errors.Wrap(err, "run nargo")
	}

	v.logger.Debug("Proof accepted by nargo", map[string]interface{}{
		"predicate_id": predicate.ID.Canonical(),
		"duration_ms":  elapsed.Milliseconds(),
	})
	return accepted(), nil
}

// Check reports whether the toolchain binary can be resolved.
func (v *NoirVerifier) Check(_ context.Context) error {
	if _, err := exec.LookPath(v.cfg.NargoBin); err != nil {
		return errors.Wrap(err, "nargo binary")
	}
	return nil
}

func (v *NoirVerifier) sourceDir(predicate *domain.PredicateDescriptor) string {
	if filepath.IsAbs(predicate.CircuitPath) {
		return predicate.CircuitPath
	}
	return filepath.Join(v.cfg.CircuitsDir, predicate.CircuitPath)
}

func packageName(predicate *domain.PredicateDescriptor) string {
	return filepath.Base(filepath.Clean(predicate.CircuitPath))
}

func artifactPath(dir, pkg string) string {
	return filepath.Join(dir, "target", pkg+".json")
}

// ensureCompiled returns the cache directory holding the compiled circuit. Concurrent
// callers for the same predicate share a single compile. The circuit is built in a staging
// directory and renamed into place, so buildDir only ever holds a complete artifact.
func (v *NoirVerifier) ensureCompiled(ctx context.Context, predicate *domain.PredicateDescriptor) (string, error) {
	pkg := packageName(predicate)
	buildDir := filepath.Join(v.cfg.CacheDir, predicate.ID.Canonical(), pkg)
	if _, err := os.Stat(artifactPath(buildDir, pkg)); err == nil {
		return buildDir, nil
	}

	_, err, _ := v.builds.Do(predicate.ID.Canonical(), func() (interface{}, error) {
		if _, err := os.Stat(artifactPath(buildDir, pkg)); err == nil {
			return nil, nil
		}
		src := v.sourceDir(predicate)
		if _, err := os.Stat(filepath.Join(src, manifestFile)); err != nil {
			return nil, errors.Wrap(errors.ErrArtifactNotFound, src)
		}

		parent := filepath.Dir(buildDir)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, err
		}
		staging, err := os.MkdirTemp(parent, ".stage-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(staging)
		// The staged copy keeps the package directory name the toolchain derives paths from.
		stageDir := filepath.Join(staging, pkg)
		if err := copyTree(src, stageDir); err != nil {
			return nil, errors.Wrap(err, "copy circuit sources")
		}

		started := time.Now()
		compiled := false
		// Circuits shipped with a prebuilt artifact skip compilation.
		if _, err := os.Stat(artifactPath(stageDir, pkg)); err != nil {
			compileCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
			defer cancel()
			out, err := v.run(compileCtx, stageDir, v.cfg.NargoBin, "compile")
			if err != nil {
				if compileCtx.Err() == context.DeadlineExceeded {
					return nil, errors.Wrap(errors.ErrVerifierTimeout, "compile")
				}
				return nil, fmt.Errorf("nargo compile %s: %w: %s", predicate.ID.Canonical(), err, trimDiagnostic(out))
			}
			if _, err := os.Stat(artifactPath(stageDir, pkg)); err != nil {
				return nil, errors.Wrap(errors.ErrArtifactNotFound, artifactPath(stageDir, pkg))
			}
			compiled = true
		}

		// A leftover buildDir without an artifact is replaced.
		if err := os.RemoveAll(buildDir); err != nil {
			return nil, err
		}
		if err := os.Rename(stageDir, buildDir); err != nil {
			return nil, errors.Wrap(err, "publish compiled circuit")
		}
		if compiled {
			v.logger.Info("Circuit compiled", map[string]interface{}{
				"predicate_id": predicate.ID.Canonical(),
				"build_dir":    buildDir,
				"duration_ms":  time.Since(started).Milliseconds(),
			})
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return buildDir, nil
}

func (v *NoirVerifier) prepareWorkspace(buildDir string, predicate *domain.PredicateDescriptor, proof, inputs []byte) (string, error) {
	pkg := packageName(predicate)
	if err := os.MkdirAll(v.cfg.CacheDir, 0o755); err != nil {
		return "", err
	}
	work, err := os.MkdirTemp(v.cfg.CacheDir, "verify-*")
	if err != nil {
		return "", err
	}
	fail := func(err error) (string, error) {
		os.RemoveAll(work)
		return "", err
	}

	if err := copyTree(buildDir, work); err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(filepath.Join(work, "proofs"), 0o755); err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(work, "proofs", pkg+".proof"), proof, 0o600); err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(work, verifierInputsFile), inputs, 0o600); err != nil {
		return fail(err)
	}
	return work, nil
}

func runCommand(ctx context.Context, dir, bin string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	return out.Bytes(), err
}

func trimDiagnostic(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxDiagnostic {
		s = s[len(s)-maxDiagnostic:]
	}
	return s
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
