package world

// Reference backends register themselves with the backend registry on import.
import (
	_ "rigidsync/broker/internal/backend/impulse"
	_ "rigidsync/broker/internal/backend/xpbd"
)
