package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/audit"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
)

var (
	archiveBucket string
	archivePrefix string
	archiveSince  time.Duration

	archiveCmd = &cobra.Command{
		Use:   "archive",
		Short: "Upload recent ledger records to S3",
		Long: `Export ledger records newer than --since as zstd-compressed JSON lines
and upload them to S3 with server-side encryption.

AWS credentials and region come from the standard AWS environment and
shared config files.`,
		Example: `  autopilot archive --bucket my-audit-bucket --since 24h`,
		RunE:    runArchive,
	}
)

func init() {
	archiveCmd.Flags().StringVar(&archiveBucket, "bucket", "", "S3 bucket (default: $ARCHIVE_BUCKET)")
	archiveCmd.Flags().StringVar(&archivePrefix, "prefix", "", "object key prefix (default: $ARCHIVE_PREFIX)")
	archiveCmd.Flags().DurationVar(&archiveSince, "since", 24*time.Hour, "archive records newer than this")

	RootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bucket := archiveBucket
	if bucket == "" {
		bucket = cfg.ArchiveBucket
	}
	if bucket == "" {
		return fmt.Errorf("no bucket: pass --bucket or set ARCHIVE_BUCKET")
	}
	prefix := archivePrefix
	if prefix == "" {
		prefix = cfg.ArchivePrefix
	}
	if archiveSince <= 0 {
		return fmt.Errorf("--since must be positive")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	archiver, err := audit.NewS3Archiver(ctx, bucket, prefix)
	if err != nil {
		return err
	}

	spinner := output.NewSpinner("Uploading ledger archive")
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()

	now := time.Now().UTC()
	key, n, err := archiver.Archive(ctx, st, now.Add(-archiveSince), now)
	if err != nil {
		spinner.Stop()
		return err
	}
	if n == 0 {
		spinner.StopWithMessage("No ledger records to archive")
		return nil
	}
	spinner.StopWithMessage(fmt.Sprintf("✓ Archived %d records to s3://%s/%s", n, bucket, key))
	return nil
}
