package logic

import "github.com/WendelHime/btpeer/internal/shared/models"

// SplitBlocks partitions a piece of pieceSize bytes into contiguous requests
// of blockSize bytes, the last one holding the remainder.
func SplitBlocks(index, pieceSize, blockSize int) []models.BlockRequest {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	blocks := make([]models.BlockRequest, 0, (pieceSize+blockSize-1)/blockSize)
	for begin := 0; begin < pieceSize; begin += blockSize {
		blocks = append(blocks, models.BlockRequest{
			Index:  index,
			Begin:  begin,
			Length: min(blockSize, pieceSize-begin),
		})
	}
	return blocks
}
