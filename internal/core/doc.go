// Package core turns a zipped CSV export into a multi-sheet workbook and
// hands it to a transfer stage for delivery.
//
// # Stages
//
// A run is strictly linear and stops at the first failing stage:
//
//  1. validate: the destination form values are checked ([DestinationInput.Parse])
//  2. extract: the base64 payload is decoded and expanded into a fresh [WorkArea]
//  3. locate: CSV files are found through the ranked [SearchRoots]
//  4. compose: one sheet per CSV is written and persisted atomically
//  5. credentials: the auth mechanism is resolved under a [KeyPolicy]
//  6. transfer: a [Transferrer] uploads the workbook
//
// [Pipeline.Run] performs all of them; [Pipeline.Convert] stops after compose.
//
// # Work Areas
//
// Every run owns a uniquely named directory. Nothing is shared between runs,
// so concurrent runs need no locking. The directory is left on disk when the
// run ends, successful or not; removing it is up to the caller.
//
// # Errors
//
// Stages return [*Error] values carrying a [Stage] and a [Kind]. [MapError]
// turns them into a [UserMessage] with a support code, and
// [Kind.ClientError] separates bad input from infrastructure failures.
package core
