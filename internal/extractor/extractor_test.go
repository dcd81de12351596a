package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrip struct {
	text      string
	err       error
	calls     int
	fractions []float64
}

func (f *fakeStrip) ReadBottomStrip(_ context.Context, fraction float64) (string, error) {
	f.calls++
	f.fractions = append(f.fractions, fraction)
	return f.text, f.err
}

func extract(t *testing.T, corpus string, strip StripReader) *Extraction {
	t.Helper()
	out, err := New(DefaultOptions()).Extract(context.Background(), Input{Corpus: corpus, Strip: strip})
	require.NoError(t, err)
	return out
}

func TestIDNumber(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		want   string
	}{
		{"latin label", "NATIONAL IDENTITY CARD\nID: 941234567V\n", "941234567V"},
		{"label without colon", "ID 941234567V", "941234567V"},
		{"sinhala label", "හැඳුනුම්පත් අංකය: 199412345678", "199412345678"},
		{"lowercase check letter kept", "941234567v", "941234567v"},
		{"x check letter", "random 851234567X text", "851234567X"},
		{"bare twelve digits", "some text\n199412345678\nmore", "199412345678"},
		{"letter prefix collapses spacing", "Passport N  1234567", "N 1234567"},
		{"label wins over earlier bare match", "200012345678\nID: 941234567V", "941234567V"},
		{"labelled new format beats earlier bare old format", "941234567V\nID: 199412345678", "199412345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strip := &fakeStrip{}
			out := extract(t, tt.corpus, strip)
			assert.Equal(t, tt.want, out.Fields.IDNumber)
			assert.True(t, out.Recognized(FieldIDNumber))
			assert.Zero(t, strip.calls, "positional fallback must not run when the corpus matches")
		})
	}
}

func TestIDNumberPositionalFallback(t *testing.T) {
	strip := &fakeStrip{text: " noise 951234567V \n"}
	out := extract(t, "Name: John Silva\nno number here", strip)

	assert.Equal(t, "951234567V", out.Fields.IDNumber)
	assert.Equal(t, 1, strip.calls)
	assert.Equal(t, []float64{0.2}, strip.fractions)
}

func TestIDNumberPositionalFallbackUsesConfiguredFraction(t *testing.T) {
	strip := &fakeStrip{text: "nothing"}
	ex := New(Options{StripFraction: 0.25})
	out, err := ex.Extract(context.Background(), Input{Corpus: "", Strip: strip})
	require.NoError(t, err)

	assert.Equal(t, IDNumberNotFound, out.Fields.IDNumber)
	assert.Equal(t, []float64{0.25}, strip.fractions)
}

func TestIDNumberPositionalFallbackErrorAborts(t *testing.T) {
	engineDown := errors.New("engine down")
	strip := &fakeStrip{err: engineDown}

	_, err := New(DefaultOptions()).Extract(context.Background(), Input{Corpus: "Name: A B", Strip: strip})
	require.Error(t, err)
	assert.ErrorIs(t, err, engineDown)
}

func TestIDNumberWithoutImageAccess(t *testing.T) {
	out := extract(t, "no id", nil)
	assert.Equal(t, IDNumberNotFound, out.Fields.IDNumber)
	assert.False(t, out.Recognized(FieldIDNumber))
}

func TestFullName(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		want   string
	}{
		{"latin label", "Name: John Silva\nDOB 1994/05/12", "John Silva"},
		{"label on following line", "Name:\n  Kamal Perera  \n", "Kamal Perera"},
		{"full name label before bare name label", "සම්පූර්ණ නම: කමල් පෙරේරා\n", "කමල් පෙරේරා"},
		{"other names label", "වෙනත් නම්: නිමල්\n", "නිමල්"},
		{"full name label beats earlier bare name label", "නම: කමල්\nසම්පූර්ණ නම: කමල් පෙරේරා\n", "කමල් පෙරේරා"},
		{"sinhala words", "1994/05/12\nකමල් පෙරේරා\n", "කමල් පෙරේරා"},
		{"leading line", "\nabc\n1994/05/12 born\nKAMAL PERERA\n", "KAMAL PERERA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := extract(t, tt.corpus, nil)
			assert.Equal(t, tt.want, out.Fields.FullName)
		})
	}
}

func TestFullNameNotRecognised(t *testing.T) {
	corpus := "\nabc\n12345 road\n\nxy\nthis sixth line is long enough\n"
	out := extract(t, corpus, nil)

	assert.Equal(t, FullNameNotFound, out.Fields.FullName)
	assert.False(t, out.Recognized(FieldFullName))
}

func TestFullNameLineWindowIsTunable(t *testing.T) {
	corpus := "\nabc\n12345 road\n\nxy\nthis sixth line is long enough\n"
	out, err := New(Options{NameLineWindow: 6}).Extract(context.Background(), Input{Corpus: corpus})
	require.NoError(t, err)
	assert.Equal(t, "this sixth line is long enough", out.Fields.FullName)
}

func TestDateOfBirth(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		want   string
	}{
		{"label beats earlier bare date", "Issued 2015/01/01\nDate of Birth: 1994/05/12", "1994/05/12"},
		{"sinhala label ymd", "උපන් දිනය: 1994-05-12", "1994-05-12"},
		{"sinhala label dmy", "උපන් දිනය 12.05.1994", "12.05.1994"},
		{"dob label", "DOB:12/05/94", "12/05/94"},
		{"lowercase dob is not a label", "valid dob 12/05/94 x\nDOB 1994/05/12", "1994/05/12"},
		{"lowercase date of birth is not a label", "renewal date of birth 01/01/15\nDate of Birth 1994/05/12", "1994/05/12"},
		{"bare ymd", "printed 1994/05/12 here", "1994/05/12"},
		{"bare dmy", "printed 12/05/1994 here", "12/05/1994"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := extract(t, tt.corpus, nil)
			assert.Equal(t, tt.want, out.Fields.DateOfBirth)
		})
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		want   string
	}{
		{"sinhala label multi-line", "ලිපිනය:\n12, ගාලු පාර,\n  කොළඹ\n\nother", "12, ගාලු පාර, කොළඹ"},
		{"latin label", "Address: 45 Main Street\nKandy\n\n", "45 Main Street Kandy"},
		{"lot prefix with sinhala", "xx 19/54-1, ගාලු පාර\nNIC", "19/54-1, ගාලු පාර"},
		{"loose lot prefix", "No 19/54A Temple Road, Kandy", "19/54A Temple Road"},
		{"loose lot prefix keeps later slashes", "19/54 Temple Rd/Kandy", "19/54 Temple Rd/Kandy"},
		{"date-only line starts at the first component", "12/05/1994", "12/05/1994"},
		{"date after text starts at the first component", "Issued 12/05/1994\nX", "12/05/1994"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := extract(t, tt.corpus, nil)
			assert.Equal(t, tt.want, out.Fields.Address)
		})
	}
}

func TestEmptyCorpusYieldsAllSentinels(t *testing.T) {
	out := extract(t, "", &fakeStrip{})

	assert.Equal(t, FieldSet{
		FullName:    FullNameNotFound,
		IDNumber:    IDNumberNotFound,
		DateOfBirth: DateOfBirthNotFound,
		Address:     AddressNotFound,
	}, out.Fields)
	assert.Len(t, out.Outcomes, 4)
	for _, o := range out.Outcomes {
		assert.False(t, o.Recognized(), "field %s", o.Field)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	corpus := "Name: John Silva\nID: 941234567V\nDOB 1994/05/12\nAddress: 19/54-1, Galle Road\n"
	first := extract(t, corpus, nil)
	second := extract(t, corpus, nil)
	assert.Equal(t, first.Fields, second.Fields)
}

func TestCollapseSpace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseSpace("  a \n\t b   c \n"))
	assert.Equal(t, "", CollapseSpace(" \n "))
}
