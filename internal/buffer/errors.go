package buffer

import "errors"

// ErrBufferFull is returned by FixPage when the cache has reached its
// configured page_count capacity and no frame is both unpinned and free
// of waiters — the only failure mode fix_page defines per the storage
// engine's error taxonomy.
var ErrBufferFull = errors.New("buffer: no evictable frame (BufferFull)")
