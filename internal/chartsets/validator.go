package chartsets

import (
	"context"
	"errors"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/chartfile"
)

// Accounts resolves creator usernames and loads acting accounts.
type Accounts interface {
	ResolveUsername(ctx context.Context, username string) (int64, error)
	FindByID(ctx context.Context, accountID int64) (accounts.Account, error)
}

// CreatableChart is a document that passed set validation, with its creators
// resolved to account identifiers.
type CreatableChart struct {
	archive.Document
	CreatorIDs []int64
}

// Validator checks that the documents of one upload describe the same song
// and credit existing accounts.
type Validator struct {
	accounts Accounts
}

func NewValidator(accounts Accounts) *Validator {
	return &Validator{accounts: accounts}
}

// Validate compares every document with basis and resolves its creators.
// It has no side effects, so validating the same input twice yields the same result.
func (v *Validator) Validate(ctx context.Context, documents []archive.Document, basis archive.Document) ([]CreatableChart, error) {
	charts := make([]CreatableChart, 0, len(documents))
	for _, document := range documents {
		if fields := mismatchedFields(basis.Metadata, document.Metadata); len(fields) > 0 {
			return nil, &MetadataMismatchError{Entry: document.EntryName, Fields: fields}
		}

		creatorIDs := make([]int64, 0, len(document.Header.Creators))
		for _, username := range document.Header.Creators {
			accountID, err := v.accounts.ResolveUsername(ctx, username)
			if errors.Is(err, accounts.ErrAccountNotFound) {
				return nil, &UnknownCreatorError{Username: username}
			}
			if err != nil {
				return nil, err
			}
			creatorIDs = append(creatorIDs, accountID)
		}

		charts = append(charts, CreatableChart{Document: document, CreatorIDs: creatorIDs})
	}
	return charts, nil
}

func mismatchedFields(basis, candidate chartfile.Metadata) []string {
	comparisons := []struct {
		name  string
		left  string
		right string
	}{
		{name: "artist", left: basis.Artist, right: candidate.Artist},
		{name: "artist_romanized", left: basis.ArtistRomanized, right: candidate.ArtistRomanized},
		{name: "title", left: basis.Title, right: candidate.Title},
		{name: "title_romanized", left: basis.TitleRomanized, right: candidate.TitleRomanized},
		{name: "source", left: basis.Source, right: candidate.Source},
		{name: "source_romanized", left: basis.SourceRomanized, right: candidate.SourceRomanized},
		{name: "tags", left: basis.Tags, right: candidate.Tags},
	}
	var fields []string
	for _, comparison := range comparisons {
		if comparison.left != comparison.right {
			fields = append(fields, comparison.name)
		}
	}
	return fields
}
