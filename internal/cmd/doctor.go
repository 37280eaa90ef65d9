package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/3leaps/snapbridge/internal/config"
	"github.com/3leaps/snapbridge/internal/observability"
	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/recordstore"
)

var doctorOnline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration, local directories and stores.

Examples:
  snapbridge doctor            # Configuration, directories, history and record store
  snapbridge doctor --online   # Also check object-store credentials`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorOnline, "online", false, "Check object-store credentials")
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *appconfig.Config) (string, error)
}

func doctorChecks() []doctorCheck {
	checks := []doctorCheck{
		{"Go version", checkGoVersion},
		{"Crucible access", checkCrucible},
		{"content directories", checkDirectories},
		{"job history", checkHistory},
		{"record store", checkRecordStore},
	}
	if doctorOnline {
		checks = append(checks, doctorCheck{"object-store credentials", checkCredentials})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger
	log.Info("=== " + BinaryName + " doctor ===")

	cfg, err := loadConfig(ctx)
	if err != nil {
		log.Error("Checking configuration... ❌", zap.Error(err))
		return err
	}
	log.Info("Checking configuration... ✅", zap.String("config", cfgFile))

	checks := doctorChecks()
	failed := 0
	for i, c := range checks {
		detail, err := c.run(ctx, cfg)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			failed++
			log.Error(prefix+" ❌", zap.Error(err))
			continue
		}
		log.Info(prefix + " ✅ " + detail)
	}

	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info("✅ All checks passed!")
	return nil
}

func checkGoVersion(context.Context, *appconfig.Config) (string, error) {
	v := runtime.Version()
	return fmt.Sprintf("%s %s/%s", v, runtime.GOOS, runtime.GOARCH), nil
}

func checkCrucible(context.Context, *appconfig.Config) (string, error) {
	v := crucible.GetVersion()
	if v.Crucible == "" {
		return "", errors.New("cannot access Crucible")
	}
	return fmt.Sprintf("crucible v%s, gofulmen v%s", v.Crucible, v.Gofulmen), nil
}

func checkDirectories(_ context.Context, cfg *appconfig.Config) (string, error) {
	dirs := []string{cfg.Content.RootDir, cfg.Restoration.RootDir}
	if cfg.Content.WorkDir != "" {
		dirs = append(dirs, cfg.Content.WorkDir)
	}
	for _, dir := range dirs {
		if err := checkWritable(dir); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%d writable", len(dirs)), nil
}

// checkWritable creates dir if needed and writes and removes a probe file.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("clean up %s: %w", filepath.Base(name), err)
	}
	return nil
}

func checkHistory(ctx context.Context, cfg *appconfig.Config) (string, error) {
	opts := cfg.HistoryOptions()
	h, err := history.Open(ctx, opts)
	if err != nil {
		return "", err
	}
	defer func() { _ = h.Close() }()
	if _, err := h.ListRuns(ctx, job.KindSnapshot, 0, 1); err != nil {
		return "", err
	}
	return opts.Backend, nil
}

func checkRecordStore(ctx context.Context, cfg *appconfig.Config) (string, error) {
	opts := cfg.StoreOptions()
	s, err := recordstore.Open(ctx, opts)
	if err != nil {
		return "", err
	}
	defer func() { _ = s.Close() }()
	list, err := s.ListRestorations(ctx)
	if err != nil {
		return "", err
	}
	backend := opts.Backend
	if backend == "" {
		backend = recordstore.BackendFile
	}
	return fmt.Sprintf("%s, %d restorations", backend, len(list)), nil
}

func checkCredentials(ctx context.Context, cfg *appconfig.Config) (string, error) {
	if len(cfg.Online.Stores) > 0 {
		ids := make([]string, 0, len(cfg.Online.Stores))
		for id, c := range cfg.Online.Stores {
			if c.AccessKeyID == "" && c.Profile == "" {
				return "", fmt.Errorf("store %s has neither access_key_id nor profile", id)
			}
			ids = append(ids, fmt.Sprintf("%s=%s", id, maskAccessKey(c.AccessKeyID)))
		}
		sort.Strings(ids)
		return fmt.Sprintf("%v", ids), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		printAWSCredentialsHelp()
		return "", fmt.Errorf("retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s from %s", maskAccessKey(creds.AccessKeyID), source), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure object-store credentials:")
	log.Info("  1. Add online.stores.<store_id>.access_key_id / secret_access_key to the config, or")
	log.Info("  2. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  3. Run 'aws configure' to set up a profile")
	log.Info("")
}
