package analysis

import (
	"context"
	"io"

	"equipviz/internal/core"
)

// Ports for the external analysis service.
type (
	LoginVerifier interface {
		// VerifyLogin succeeds when the service accepts the credentials.
		VerifyLogin(ctx context.Context, creds core.Credentials) error
	}

	HistoryLister interface {
		// ListHistory returns prior uploads, newest first.
		ListHistory(ctx context.Context, creds core.Credentials) ([]core.HistoryEntry, error)
	}

	DatasetUploader interface {
		// UploadDataset sends a CSV body as the multipart field "file".
		UploadDataset(ctx context.Context, creds core.Credentials, filename string, body io.Reader) (core.UploadResult, error)
	}

	ReportFetcher interface {
		// FetchReport downloads the PDF report of one dataset.
		FetchReport(ctx context.Context, creds core.Credentials, id core.DatasetID) (core.Report, error)
	}

	// Backend is everything the dashboard needs from the service.
	Backend interface {
		LoginVerifier
		HistoryLister
		DatasetUploader
		ReportFetcher
	}
)
