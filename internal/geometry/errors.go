package geometry

import "errors"

var errSVD = errors.New("geometry: svd factorization failed")
