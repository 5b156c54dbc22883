package etl

import "fmt"

// CredentialAcquisitionError reports a browser session that never yielded a
// usable token. Fatal to a full crawl; detail refreshes fall back to the
// public key instead.
type CredentialAcquisitionError struct {
	Err error
}

func (e *CredentialAcquisitionError) Error() string {
	return fmt.Sprintf("acquiring session credentials: %v", e.Err)
}

func (e *CredentialAcquisitionError) Unwrap() error { return e.Err }

// ListingFetchError reports a crawl that produced no usable listing data.
type ListingFetchError struct {
	Err error
}

func (e *ListingFetchError) Error() string {
	return fmt.Sprintf("fetching listing pages: %v", e.Err)
}

func (e *ListingFetchError) Unwrap() error { return e.Err }

// BulkLoadError reports a failed load of crawled records into storage.
type BulkLoadError struct {
	Err error
}

func (e *BulkLoadError) Error() string {
	return fmt.Sprintf("loading crawled records: %v", e.Err)
}

func (e *BulkLoadError) Unwrap() error { return e.Err }

// ScoreTransformError reports a failed scoring pass over stored tenders.
type ScoreTransformError struct {
	Phase int
	Err   error
}

func (e *ScoreTransformError) Error() string {
	return fmt.Sprintf("phase %d scoring: %v", e.Phase, e.Err)
}

func (e *ScoreTransformError) Unwrap() error { return e.Err }

// DetailRefreshError reports a failed detail write for one tender code.
type DetailRefreshError struct {
	Code string
	Err  error
}

func (e *DetailRefreshError) Error() string {
	return fmt.Sprintf("refreshing detail for %s: %v", e.Code, e.Err)
}

func (e *DetailRefreshError) Unwrap() error { return e.Err }
