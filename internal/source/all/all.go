// Package all links every built-in stage implementation into the binary so
// their factory registrations run. Run specs select implementations by
// kind; we need support for all of them compiled in.
package all

import (
	_ "github.com/Zaur86/etl-mini/internal/source/elastic"
	_ "github.com/Zaur86/etl-mini/internal/source/objstore"
	_ "github.com/Zaur86/etl-mini/internal/storage/postgres"
)
