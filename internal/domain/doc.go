// Package domain models INMET automatic weather-station observations and the
// transformations that turn them into the Silver and Gold datasets.
//
// # Data Source
//
// Hourly observations come from the INMET historical archive
// (https://portal.inmet.gov.br/dadoshistoricos), one ZIP per year containing
// one CSV per station. An upstream step unzips the archive and filters the
// stations of interest; this package only sees rows of strings.
//
// # INMET Data Conventions
//
// File layout:
//
//	8 metadata lines ("REGIAO:;NE", "ESTACAO:;JOAO PESSOA", "CODIGO (WMO):;A320", ...)
//	followed by a ';'-delimited header and data rows, Latin-1 encoded.
//	Rows end with a trailing ';', which yields an empty last column.
//
// Header drift:
//
//	Up to 2018 the timestamp columns are "DATA (YYYY-MM-DD)" and "HORA (UTC)"
//	with values "2018-01-01" and "00:00". From 2019 they are "Data" and
//	"Hora UTC" with values "2019/01/01" and "0000 UTC". Measurement headers
//	change accents and capitalization between years. Each layout is an entry
//	in the versioned table in schema.go, see [DefaultSchemaVersions].
//
// Numbers:
//
//	Decimal comma, sometimes without a leading zero: ",2" = 0.2.
//
// Missing values:
//
//	"---" in recent files and "-9999" in older ones. Both are sentinels and
//	become null; see [TypeCoercer].
//
// Time:
//
//	Timestamps are UTC and never shift for daylight saving. The target zone
//	(America/Fortaleza) has a single offset (UTC-3) over the archive period.
//	[TimezoneConverter] refuses to run if either zone is found to change its
//	offset inside the processing window.
//
// # Pipeline tiers
//
//	Bronze  raw rows of one year, as read from the archive.
//	Silver  typed, deduplicated hourly records; partitioned by (year, month).
//	Gold    daily aggregates per municipality; partitioned by municipio.
//
// # Judgment calls
//
// Deduplication keeps the candidate with the fewest null measurements and,
// among equals, the one read last. A day without any valid temperature still
// produces an aggregate row with null statistics. Both policies are covered by
// tests in this package.
package domain
