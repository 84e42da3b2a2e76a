// Package all links every storage backend into the binary. Import it for its
// side effects; a backend whose package is not linked fails construction with
// storage.MissingDependency.
package all

import (
	_ "github.com/fruitsalade/outputstore/internal/storage/drive"
	_ "github.com/fruitsalade/outputstore/internal/storage/ftp"
	_ "github.com/fruitsalade/outputstore/internal/storage/local"
	_ "github.com/fruitsalade/outputstore/internal/storage/objectshare"
)
