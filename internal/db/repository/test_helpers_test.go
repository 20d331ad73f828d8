package repository

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

func uuidFromByte(b byte) pgtype.UUID {
	var arr [16]byte
	arr[15] = b
	return pgtype.UUID{Bytes: arr, Valid: true}
}

func googleUUIDFromByte(b byte) uuid.UUID {
	var arr uuid.UUID
	arr[15] = b
	return arr
}
