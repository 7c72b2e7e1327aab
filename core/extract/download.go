package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/siherrmann/parentrag/helper"
)

// Download streams url to dest. The file is written next to dest first and
// renamed when complete, so dest never holds a partial download. A nil
// client uses http.DefaultClient. It returns the number of bytes written.
func Download(ctx context.Context, client *http.Client, url string, dest string) (int64, error) {
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, helper.NewKindError(helper.ErrInvalidArgument, "create request", err)
	}

	response, err := client.Do(request)
	if err != nil {
		return 0, helper.NewKindError(helper.ErrExtraction, "get "+url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return 0, helper.NewKindError(helper.ErrExtraction, "get "+url, fmt.Errorf("unexpected status code %d", response.StatusCode))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, helper.NewError("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, response.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, helper.NewKindError(helper.ErrExtraction, "write "+dest, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, helper.NewError("rename download", err)
	}

	return written, nil
}
