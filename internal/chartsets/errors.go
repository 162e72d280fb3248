package chartsets

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrMetadataMismatch  = errors.New("chartsets: metadata mismatch")
	ErrUnknownCreator    = errors.New("chartsets: unknown creator")
	ErrSetAlreadyExists  = errors.New("chartsets: set already exists")
	ErrSetNotFound       = errors.New("chartsets: set not found")
	ErrChartNotFound     = errors.New("chartsets: chart not found")
	ErrChartNotPartOfSet = errors.New("chartsets: chart not part of set")
	ErrNotOwner          = errors.New("chartsets: not the set owner")
	ErrAlreadyNominated  = errors.New("chartsets: already nominated")
	ErrSetNotPending     = errors.New("chartsets: set not pending")
	ErrNoPermission      = errors.New("chartsets: missing permission")
	ErrPostNotFound      = errors.New("chartsets: post not found")
	ErrInvalidPost       = errors.New("chartsets: invalid post")
	ErrStatusLocked      = errors.New("chartsets: status can no longer be changed")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// MetadataMismatchError reports a chart whose song fields differ from the basis chart.
type MetadataMismatchError struct {
	Entry  string
	Fields []string
}

func (e *MetadataMismatchError) Error() string {
	return fmt.Sprintf("%s: %s differs in %s", ErrMetadataMismatch, e.Entry, strings.Join(e.Fields, ", "))
}

func (e *MetadataMismatchError) Is(target error) bool {
	return target == ErrMetadataMismatch
}

// UnknownCreatorError reports a creator username with no matching account.
type UnknownCreatorError struct {
	Username string
}

func (e *UnknownCreatorError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownCreator, e.Username)
}

func (e *UnknownCreatorError) Is(target error) bool {
	return target == ErrUnknownCreator
}

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "chartsets.service.new"
	opSubmit      = "chartsets.submit"
	opUpdate      = "chartsets.update"
	opGet         = "chartsets.get"
	opNominate    = "chartsets.nominate"
	opDisqualify  = "chartsets.disqualify"
	opRank        = "chartsets.rank"
	opCreatePost  = "chartsets.create_post"
	opDiscussion  = "chartsets.discussion"
	opSearchIndex = "chartsets.search_index"
)

const (
	fieldSetID     = "set_id"
	fieldChartID   = "chart_id"
	fieldAccountID = "account_id"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// domainError keeps caller-facing sentinels intact and wraps everything else
// as an infrastructure failure of operation.
func domainError(operation, reason string, err error) error {
	if isDomainError(err) {
		return err
	}
	return newServiceError(operation, reason, err)
}

func isDomainError(err error) bool {
	for _, sentinel := range []error{
		ErrMetadataMismatch, ErrUnknownCreator, ErrSetAlreadyExists, ErrSetNotFound,
		ErrChartNotFound, ErrChartNotPartOfSet, ErrNotOwner, ErrAlreadyNominated,
		ErrSetNotPending, ErrNoPermission, ErrPostNotFound, ErrInvalidPost, ErrStatusLocked,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("chartsets service error", attrs...)
}
